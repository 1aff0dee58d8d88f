package main

import "github.com/adamgarcia4/goLearning/floodnet/cmd"

func main() {
	cmd.Execute()
}
