package main

import (
	"os"

	"github.com/lotkeeper/lotkeeper/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
