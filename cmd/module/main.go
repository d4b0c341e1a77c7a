package main

import (
	"quenchprocessing"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: quenchprocessing.Controller},
		resource.APIModel{API: sensor.API, Model: quenchprocessing.ProcessSensor},
		resource.APIModel{API: sensor.API, Model: quenchprocessing.ValidationSensor},
	)
}
