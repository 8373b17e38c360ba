package main

import "github.com/KintaMiao/WebPGP/cli/cmd"

func main() {
	cmd.Execute()
}
