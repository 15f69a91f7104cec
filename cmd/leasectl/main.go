package main

import "github.com/chiquitav2/vpn-leased/cmd/leasectl/cmd"

func main() {
	cmd.Execute()
}
