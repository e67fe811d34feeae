package main

import (
	"github.com/apk-analysis/apk-drift/cmd/apkdrift/commands"
)

func main() {
	commands.Execute()
}
