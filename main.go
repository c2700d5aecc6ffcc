package main

import "github.com/Tiliavir/team-worklog/cmd"

func main() {
	cmd.Execute()
}
