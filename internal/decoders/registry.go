package decoders

// setupFor returns the setup of pattern id, or nil for an unknown id. A
// setup writes the pattern's initial state and returns its operations.
func setupFor(id ID) func(*Context) Decoder {
	switch id {
	case MissingTooth:
		return (*Context).setupMissingTooth
	case BasicDistributor:
		return (*Context).setupBasicDistributor
	case DualWheel:
		return (*Context).setupDualWheel
	case GM7X:
		return (*Context).setupGM7X
	case FourG63:
		return (*Context).setupFourG63
	case GM24X:
		return (*Context).setupGM24X
	case Jeep2000:
		return (*Context).setupJeep2000
	case Audi135:
		return (*Context).setupAudi135
	case HondaD17:
		return (*Context).setupHondaD17
	case Miata9905:
		return (*Context).setupMiata9905
	case MazdaAU:
		return (*Context).setupMazdaAU
	case Non360:
		return (*Context).setupNon360
	case Nissan360:
		return (*Context).setupNissan360
	case Subaru67:
		return (*Context).setupSubaru67
	case DaihatsuPlus1:
		return (*Context).setupDaihatsu
	case Harley:
		return (*Context).setupHarley
	case ThirtySixMinus222:
		return (*Context).setupThirtySixMinus222
	case ThirtySixMinus21:
		return (*Context).setupThirtySixMinus21
	case Chrysler420A:
		return (*Context).setupChrysler420A
	case Weber:
		return (*Context).setupWeber
	case FordST170:
		return (*Context).setupFordST170
	case DRZ400:
		return (*Context).setupDRZ400
	case ChryslerNGC:
		return (*Context).setupNGC
	case YamahaVmax:
		return (*Context).setupVmax
	case Renix:
		return (*Context).setupRenix
	case RoverMEMS:
		return (*Context).setupRoverMEMS
	case SuzukiK6A:
		return (*Context).setupSuzukiK6A
	case HondaJ32:
		return (*Context).setupHondaJ32
	case FordTFI:
		return (*Context).setupFordTFI
	case Subaru7CrankOnly:
		return (*Context).setupSubaru7CrankOnly
	}
	return nil
}

// Supported reports whether id names a pattern with a decoder.
func Supported(id ID) bool {
	return setupFor(id) != nil
}

// build runs the setup for id. Unknown ids get the inert decoder, whose
// triggers are invalid and never attach.
func (c *Context) build(id ID) Decoder {
	setup := setupFor(id)
	if setup == nil {
		return NewBuilder().Build()
	}
	return setup(c)
}
