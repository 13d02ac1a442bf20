package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/stdr"
	"github.com/mikesmitty/hx711"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func main() {
	cfgPath := flag.String("config", "hx711.yaml", "Path to the YAML configuration")
	clkName := flag.String("clk", "", "Name of the PD_SCK pin, overrides the configuration")
	dataName := flag.String("dout", "", "Name of the DOUT pin, overrides the configuration")
	tare := flag.Bool("tare", false, "Zero the scale before reading")
	known := flag.Float64("calibrate", 0, "Known weight on the scale; derives and saves the scale ratio")
	verbosity := flag.Int("v", 0, "Diagnostic verbosity")
	flag.Parse()

	cfg, err := Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *clkName != "" {
		cfg.Pins.Clock = *clkName
	}
	if *dataName != "" {
		cfg.Pins.Data = *dataName
	}

	stdr.SetVerbosity(*verbosity)
	logger := stdr.New(log.Default())

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	clk := gpioreg.ByName(cfg.Pins.Clock)
	if clk == nil {
		log.Fatalf("%v: no pin named %q", hx711.ErrConfig, cfg.Pins.Clock)
	}
	dout := gpioreg.ByName(cfg.Pins.Data)
	if dout == nil {
		log.Fatalf("%v: no pin named %q", hx711.ErrConfig, cfg.Pins.Data)
	}

	opts, err := cfg.Options()
	if err != nil {
		log.Fatal(err)
	}
	opts.Logger = logger

	dev, err := hx711.New(clk, dout, opts)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Apply(dev); err != nil {
		log.Fatal(err)
	}

	if *tare || cfg.TareOnStart || *known > 0 {
		if err := dev.Tare(); err != nil {
			log.Fatal(err)
		}
	}
	if *known > 0 {
		log.Printf("Place %g on the scale and press enter", *known)
		var line string
		_, _ = fmt.Scanln(&line)
		if err := dev.Calibrate(*known, cfg.Samples); err != nil {
			log.Fatal(err)
		}
		cfg.Capture(dev)
		if err := cfg.Save(*cfgPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("Scale ratio %g saved to %s", dev.ScaleRatio(dev.ActiveSlot()), *cfgPath)
	}

	sensing, err := dev.SenseContinuous(cfg.Interval)
	if err != nil {
		log.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		if err := dev.Halt(); err != nil {
			log.Print(err)
		}
	}()

	for m := range sensing {
		log.Printf("Weight: %f (raw %.1f, slot %v)", m.Weight, m.Raw, m.Slot)
	}
	if err := dev.Halt(); err != nil {
		log.Print(err)
	}
}
