package main

import "github.com/nextlevelbuilder/snakehook-triage/cmd"

func main() {
	cmd.Execute()
}
