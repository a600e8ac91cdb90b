package main

import "github.com/quatton/qci/apps/qciserver/cmd"

func main() {
	cmd.Execute()
}
