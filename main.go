package main

import "attendance-ingest/cmd"

func main() {
	cmd.Execute()
}
