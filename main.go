package main

import "github.com/nextlevelbuilder/ggcode/cmd"

func main() {
	cmd.Execute()
}
