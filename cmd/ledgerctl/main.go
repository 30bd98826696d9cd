package main

import (
	"os"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
