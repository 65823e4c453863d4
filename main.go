package main

import "github.com/drgolem/gapless/cmd"

func main() {
	cmd.Execute()
}
