package main

import (
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

var sparkModes = map[string]decoders.SparkMode{
	"wasted":     decoders.SparkWasted,
	"single":     decoders.SparkSingle,
	"wasted-cop": decoders.SparkWastedCOP,
	"sequential": decoders.SparkSequential,
	"rotary":     decoders.SparkRotary,
}

var injLayouts = map[string]decoders.InjLayout{
	"paired":     decoders.InjPaired,
	"semi":       decoders.InjSemiSequential,
	"banked":     decoders.InjBanked,
	"sequential": decoders.InjSequential,
}

var filterLevels = map[string]decoders.FilterLevel{
	"off":        decoders.FilterOff,
	"lite":       decoders.FilterLite,
	"medium":     decoders.FilterMedium,
	"aggressive": decoders.FilterAggressive,
}

// engineFlags are the command line values that override the stored
// configuration page. Only flags given on the command line are applied.
type engineFlags struct {
	pattern      int
	teeth        uint
	missing      uint
	triggerAngle int
	cylinders    uint
	spark        string
	inj          string
	filter       string
	camSpeed     bool
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	def := decoders.DefaultConfig()
	fs.IntVar(&f.pattern, "pattern", int(def.Pattern), "Trigger pattern ID (0 = missing tooth, 2 = dual wheel, ...)")
	fs.UintVar(&f.teeth, "teeth", uint(def.TriggerTeeth), "Primary wheel tooth count, including missing teeth")
	fs.UintVar(&f.missing, "missing", uint(def.MissingTeeth), "Missing teeth on the primary wheel")
	fs.IntVar(&f.triggerAngle, "trigger-angle", int(def.TriggerAngle), "Crank angle of tooth #1 after TDC")
	fs.UintVar(&f.cylinders, "cylinders", uint(def.Cylinders), "Cylinder count")
	fs.StringVar(&f.spark, "spark", "wasted", "Spark mode: "+keys(sparkModes))
	fs.StringVar(&f.inj, "inj", "paired", "Injector layout: "+keys(injLayouts))
	fs.StringVar(&f.filter, "filter", "off", "Primary trigger filter: "+keys(filterLevels))
	fs.BoolVar(&f.camSpeed, "cam-speed", false, "Primary wheel turns at cam speed")
}

// apply writes the flags named by set onto cfg.
func (f *engineFlags) apply(cfg *decoders.Config, set map[string]bool) error {
	if set["pattern"] {
		if f.pattern < 0 || f.pattern > int(decoders.Subaru7CrankOnly) {
			return fmt.Errorf("unknown pattern %d", f.pattern)
		}
		cfg.Pattern = decoders.ID(f.pattern)
	}
	if set["teeth"] {
		cfg.TriggerTeeth = uint16(f.teeth)
	}
	if set["missing"] {
		cfg.MissingTeeth = uint16(f.missing)
	}
	if set["trigger-angle"] {
		cfg.TriggerAngle = int16(f.triggerAngle)
	}
	if set["cylinders"] {
		cfg.Cylinders = uint8(f.cylinders)
	}
	if set["spark"] {
		m, ok := sparkModes[f.spark]
		if !ok {
			return fmt.Errorf("unknown spark mode %q", f.spark)
		}
		cfg.SparkMode = m
	}
	if set["inj"] {
		l, ok := injLayouts[f.inj]
		if !ok {
			return fmt.Errorf("unknown injector layout %q", f.inj)
		}
		cfg.InjLayout = l
	}
	if set["filter"] {
		l, ok := filterLevels[f.filter]
		if !ok {
			return fmt.Errorf("unknown filter level %q", f.filter)
		}
		cfg.Filter = l
	}
	if set["cam-speed"] {
		cfg.TrigSpeed = decoders.CrankSpeed
		if f.camSpeed {
			cfg.TrigSpeed = decoders.CamSpeed
		}
	}
	return nil
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// parsePins parses a comma separated list of BCM pin numbers.
func parsePins(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var pins []int
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid pin %q", field)
		}
		pins = append(pins, n)
	}
	return pins, nil
}

func formatPins(pins []int) string {
	s := make([]string, len(pins))
	for i, p := range pins {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}

func keys[V any](m map[string]V) string {
	k := make([]string, 0, len(m))
	for name := range m {
		k = append(k, name)
	}
	slices.Sort(k)
	return strings.Join(k, ", ")
}
