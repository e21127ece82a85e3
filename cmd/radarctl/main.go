// radarctl -- CLI client for the PICORadar daemon.
package main

import "github.com/picoradar/picoradar/cmd/radarctl/commands"

func main() {
	commands.Execute()
}
