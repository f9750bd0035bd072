package main

import (
	_ "github.com/joho/godotenv/autoload"

	"davit/cmd"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	cmd.Execute(version, commit, date)
}
