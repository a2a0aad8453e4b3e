package main

import "reward-anomaly-engine/internal/cli"

func main() {
	cli.Execute()
}
