package main

import (
	"cbjournal/cmd/cbjournal/app"
)

func main() {
	app.New("cbjournal").Run()
}
