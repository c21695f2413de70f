package main

import "github.com/caedis/pack-sync/cmd"

func main() {
	cmd.Execute()
}
