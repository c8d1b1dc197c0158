package bus

import (
	"errors"
	"testing"
)

func TestSPISettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*SPISettings)
		wantErr bool
	}{
		{"defaults", func(*SPISettings) {}, false},
		{"max clock", func(s *SPISettings) { s.ClockSpeed = MaxSPIClock }, false},
		{"too fast", func(s *SPISettings) { s.ClockSpeed = MaxSPIClock + 1 }, true},
		{"too slow", func(s *SPISettings) { s.ClockSpeed = 100 }, true},
		{"width 1", func(s *SPISettings) { s.BitWidth = 1 }, false},
		{"width 32", func(s *SPISettings) { s.BitWidth = 32 }, false},
		{"width 0", func(s *SPISettings) { s.BitWidth = 0 }, true},
		{"width 33", func(s *SPISettings) { s.BitWidth = 33 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSPISettings()
			tt.modify(&s)
			err := s.Validate()
			if tt.wantErr && !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Validate() error = %v, want ErrOutOfRange", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestClockDividers(t *testing.T) {
	s := DefaultSPISettings()
	if got := s.ClockDivider(); got != 2 {
		t.Errorf("SPI ClockDivider() at 25 MHz = %d, want 2", got)
	}
	s.ClockSpeed = 1e6
	if got := s.ClockDivider(); got != 50 {
		t.Errorf("SPI ClockDivider() at 1 MHz = %d, want 50", got)
	}
	if got := I2CClockDivider(DefaultI2CClock); got != 41 {
		t.Errorf("I2CClockDivider(400 kHz) = %d, want 41", got)
	}
	if got := I2CClockDivider(100e3); got != 166 {
		t.Errorf("I2CClockDivider(100 kHz) = %d, want 166", got)
	}
}

func TestValidateI2CClock(t *testing.T) {
	for _, hz := range []float64{MinClockSpeed, 100e3, 400e3, MaxI2CClock} {
		if err := ValidateI2CClock(hz); err != nil {
			t.Errorf("ValidateI2CClock(%.0f) error = %v", hz, err)
		}
	}
	for _, hz := range []float64{0, 500, MaxI2CClock + 1} {
		if err := ValidateI2CClock(hz); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ValidateI2CClock(%.0f) error = %v, want ErrOutOfRange", hz, err)
		}
	}
}

func TestSPIDriverFrame(t *testing.T) {
	s := DefaultSPISettings()
	s.BitOrder = LSBFirst
	s.ClockPolarity = true
	s.BitWidth = 12

	f := s.DriverFrame(1)
	if f.ID != 1 || !f.Enable || f.MSBFirst || !f.ClockPolarity || f.BitWidth != 12 || f.ClockDivider != 2 {
		t.Errorf("DriverFrame() = %+v", f)
	}
	if s.Mode() != 2 {
		t.Errorf("Mode() = %d, want 2", s.Mode())
	}
	if got := s.Mask(0xFFFF); got != 0x0FFF {
		t.Errorf("Mask() = 0x%X, want 0xFFF", got)
	}
}
