package main

import "github.com/vpanel/core/cmd/vpanelctl/cmd"

func main() {
	cmd.Execute()
}
