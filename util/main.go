package main

import "github.com/plootohh/vigilo/cmd"

func main() {
	cmd.Execute()
}
