package main

import "github.com/theirongolddev/ynabmon/cmd"

func main() {
	cmd.Execute()
}
