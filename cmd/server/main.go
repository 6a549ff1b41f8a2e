package main

import "github.com/spaceplaces/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
