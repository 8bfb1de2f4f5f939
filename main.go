package main

import (
	"github.com/luma/taskq/cmd"
)

func main() {
	cmd.Execute()
}
