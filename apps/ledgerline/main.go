package main

import "github.com/ledgerlinelabs/ledgerline-cloud/internal/cli"

func main() {
	cli.Execute()
}
