package main

import (
	"os"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
