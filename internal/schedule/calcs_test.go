package schedule

import (
	"fmt"
	"testing"

	"github.com/sweeney/ecu-trigger/internal/crankmath"
)

// 4000 rpm, 4 ms dwell.
func testConverter() *crankmath.Converter {
	c := &crankmath.Converter{}
	c.SetRevolutionTime(15000)
	return c
}

const testDwellAngle = 96

type ignTimeoutCase struct {
	advance  int8
	crank    int
	pending  uint32
	running  uint32
	channel  int
	maxIgn   int
	dwellDeg uint16
}

func runIgnTimeoutCases(t *testing.T, channel int, cases [][4]int) {
	t.Helper()
	conv := testConverter()
	for _, c := range cases {
		tc := ignTimeoutCase{
			advance: int8(c[0]), crank: c[1], pending: uint32(c[2]), running: uint32(c[3]),
			channel: channel, maxIgn: 360, dwellDeg: testDwellAngle,
		}
		t.Run(fmt.Sprintf("ch%d/adv%d/crank%d", channel, tc.advance, tc.crank), func(t *testing.T) {
			ch := IgnitionSchedule{ChannelDegrees: tc.channel}

			ch.Status = Pending
			CalculateIgnitionAngle(&ch, tc.dwellDeg, tc.advance, tc.maxIgn)
			if got := CalculateIgnitionTimeout(&ch, tc.crank, conv, tc.maxIgn); got != tc.pending {
				t.Errorf("pending: got %d, want %d", got, tc.pending)
			}

			ch.Status = Running
			CalculateIgnitionAngle(&ch, tc.dwellDeg, tc.advance, tc.maxIgn)
			if got := CalculateIgnitionTimeout(&ch, tc.crank, conv, tc.maxIgn); got != tc.running {
				t.Errorf("running: got %d, want %d", got, tc.running)
			}
		})
	}
}

func TestIgnitionTimeoutChannel0(t *testing.T) {
	runIgnTimeoutCases(t, 0, [][4]int{
		// advance, crank, pending, running
		{-40, 0, 12666, 12666},
		{-40, 45, 10791, 10791},
		{-40, 90, 8916, 8916},
		{-40, 135, 7041, 7041},
		{-40, 180, 5166, 5166},
		{-40, 215, 3708, 3708},
		{-40, 270, 1416, 1416},
		{-40, 315, 0, 14541},
		{-40, 360, 0, 12666},
		{0, 0, 11000, 11000},
		{0, 45, 9125, 9125},
		{0, 90, 7250, 7250},
		{0, 135, 5375, 5375},
		{0, 180, 3500, 3500},
		{0, 215, 2041, 2041},
		{0, 270, 0, 14750},
		{0, 315, 0, 12875},
		{0, 360, 0, 11000},
		{40, 0, 9333, 9333},
		{40, 45, 7458, 7458},
		{40, 90, 5583, 5583},
		{40, 135, 3708, 3708},
		{40, 180, 1833, 1833},
		{40, 215, 375, 375},
		{40, 270, 0, 13083},
		{40, 315, 0, 11208},
		{40, 360, 0, 9333},
	})
}

func TestIgnitionTimeoutChannel72(t *testing.T) {
	runIgnTimeoutCases(t, 72, [][4]int{
		{-40, 0, 666, 666},
		{-40, 45, 0, 13791},
		{-40, 90, 11916, 11916},
		{-40, 135, 10041, 10041},
		{-40, 180, 8166, 8166},
		{-40, 215, 6708, 6708},
		{-40, 270, 4416, 4416},
		{-40, 315, 2541, 2541},
		{-40, 360, 666, 666},
		{0, 0, 0, 14000},
		{0, 45, 0, 12125},
		{0, 90, 10250, 10250},
		{0, 135, 8375, 8375},
		{0, 180, 6500, 6500},
		{0, 215, 5041, 5041},
		{0, 270, 2750, 2750},
		{0, 315, 875, 875},
		{0, 360, 0, 14000},
		{40, 0, 0, 12333},
		{40, 45, 0, 10458},
		{40, 90, 8583, 8583},
		{40, 135, 6708, 6708},
		{40, 180, 4833, 4833},
		{40, 215, 3375, 3375},
		{40, 270, 1083, 1083},
		{40, 315, 0, 14208},
		{40, 360, 0, 12333},
	})
}

func TestInjectorTimeout(t *testing.T) {
	conv := testConverter()
	timePerDegree := conv.TimePerDegree()
	const injAngle = 355

	tests := [][4]int{
		// pulse width (us), crank, pending, running
		{3000, 0, 11562, 11562},
		{3000, 45, 9717, 9717},
		{3000, 90, 7872, 7872},
		{3000, 135, 6027, 6027},
		{3000, 180, 4182, 4182},
		{3000, 215, 2747, 2747},
		{3000, 270, 492, 492},
		{3000, 315, 0, 13407},
		{3000, 360, 0, 11562},
		{12000, 0, 2583, 2583},
		{13000, 45, 0, 14473},
		{14000, 90, 0, 11644},
		{15000, 135, 8815, 8815},
		{16000, 180, 5945, 5945},
		{17000, 215, 3526, 3526},
		{18000, 270, 246, 246},
		{19000, 315, 0, 12177},
		{20000, 360, 0, 9348},
	}

	for _, tt := range tests {
		pw, crank := uint32(tt[0]), tt[1]
		t.Run(fmt.Sprintf("pw%d/crank%d", pw, crank), func(t *testing.T) {
			pwDegrees := uint16(pw / timePerDegree)
			start := int(CalculateInjectorStartAngle(pwDegrees, 0, injAngle, 360))

			if got := CalculateInjectorTimeout(Pending, 0, start, crank, timePerDegree, 360); got != uint32(tt[2]) {
				t.Errorf("pending: got %d, want %d", got, tt[2])
			}
			if got := CalculateInjectorTimeout(Running, 0, start, crank, timePerDegree, 360); got != uint32(tt[3]) {
				t.Errorf("running: got %d, want %d", got, tt[3])
			}
		})
	}
}

func TestInjectorStartAngle(t *testing.T) {
	tests := []struct {
		pwDegrees uint16
		channel   int16
		injAngle  uint16
		maxInj    int
		want      uint16
	}{
		{73, 0, 355, 360, 282},
		{365, 0, 355, 360, 350},
		{73, 180, 355, 360, 102},
		{100, 360, 355, 720, 615},
		{10, 0, 5, 720, 715},
	}
	for _, tt := range tests {
		got := CalculateInjectorStartAngle(tt.pwDegrees, tt.channel, tt.injAngle, tt.maxInj)
		if got != tt.want {
			t.Errorf("pw %d ch %d inj %d: got %d, want %d", tt.pwDegrees, tt.channel, tt.injAngle, got, tt.want)
		}
	}
}

func TestIgnitionAngle(t *testing.T) {
	ch := IgnitionSchedule{}
	CalculateIgnitionAngle(&ch, 5, 10, 360)
	if ch.EndAngle != 350 || ch.StartAngle != 345 {
		t.Errorf("channel 0: got end %d start %d, want 350 345", ch.EndAngle, ch.StartAngle)
	}

	ch = IgnitionSchedule{ChannelDegrees: 180}
	CalculateIgnitionAngle(&ch, 200, -10, 360)
	if ch.EndAngle != 190 || ch.StartAngle != 350 {
		t.Errorf("channel 180: got end %d start %d, want 190 350", ch.EndAngle, ch.StartAngle)
	}

	ch = IgnitionSchedule{ChannelDegrees: 0}
	CalculateIgnitionAngle(&ch, 20, -15, 720)
	if ch.EndAngle != 15 || ch.StartAngle != 715 {
		t.Errorf("sequential: got end %d start %d, want 15 715", ch.EndAngle, ch.StartAngle)
	}
}

func TestIgnitionTrailingRotary(t *testing.T) {
	leading := IgnitionSchedule{}
	CalculateIgnitionAngle(&leading, 30, 20, 360)
	trailing := IgnitionSchedule{}

	CalculateIgnitionTrailingRotary(&leading, 30, 10, &trailing, 360)
	if trailing.EndAngle != 350 || trailing.StartAngle != 320 {
		t.Errorf("split 10: got end %d start %d, want 350 320", trailing.EndAngle, trailing.StartAngle)
	}

	CalculateIgnitionTrailingRotary(&leading, 10, 60, &trailing, 360)
	if trailing.EndAngle != 400 || trailing.StartAngle != 30 {
		t.Errorf("split 60: got end %d start %d, want 400 30", trailing.EndAngle, trailing.StartAngle)
	}

	CalculateIgnitionTrailingRotary(&leading, 400, 0, &trailing, 360)
	if trailing.StartAngle != 300 {
		t.Errorf("long dwell: got start %d, want 300", trailing.StartAngle)
	}
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		start, channel, crank, max, want int
	}{
		{264, 0, 270, 360, 354},
		{264, 0, 264, 360, 360},
		{0, 0, 360, 360, 360},
		{336, 72, 0, 360, 336},
		{100, 0, 500, 720, 320},
	}
	for _, tt := range tests {
		if got := nextOccurrence(tt.start, tt.channel, tt.crank, tt.max); got != tt.want {
			t.Errorf("start %d crank %d: got %d, want %d", tt.start, tt.crank, got, tt.want)
		}
	}
}
