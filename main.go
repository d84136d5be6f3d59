package main

import "github.com/knowyouranimal/kya/cmd"

func main() {
	cmd.Execute()
}
