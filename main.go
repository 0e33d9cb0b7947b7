package main

import "github.com/theirongolddev/chatstate/cmd"

func main() {
	cmd.Execute()
}
