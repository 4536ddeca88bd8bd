package main

import "example.com/gamification/internal/cli"

func main() {
	cli.Execute()
}
