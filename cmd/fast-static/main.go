package main

import (
	"os"

	"github.com/searchktools/fast-static/app"
)

func main() {
	os.Exit(app.Main(os.Args[1:]))
}
