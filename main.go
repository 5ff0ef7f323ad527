package main

import "github.com/Zhima-Mochi/diner/cmd"

func main() {
	cmd.Execute()
}
