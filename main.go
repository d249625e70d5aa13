package main

import "github.com/FanTuani/tinix/cmd"

func main() {
	cmd.Execute()
}
