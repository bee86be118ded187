package main

import "github.com/YaHan2020/voice-flow/cmd"

func main() {
	cmd.Execute()
}
