package main

import "github.com/mihaisavezi/toolgate/cmd"

func main() {
	cmd.Execute()
}
