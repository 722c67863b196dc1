package pdmsg

import (
	"math/rand"
	"testing"
)

func TestDecodeFixedSupplyMatchesBitSlices(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	words := []uint32{0, 0x0001912C, 0x0C01912C, 0x0002D0C8, 0x3FFFFFFF}
	for i := 0; i < 1000; i++ {
		words = append(words, r.Uint32()&^(0b11<<30))
	}
	for _, w := range words {
		obj := DecodePDO(PDO(w))
		fs, ok := obj.(FixedSupplyPDO)
		if !ok {
			t.Fatalf("word %#08x decoded as %T, want FixedSupplyPDO", w, obj)
		}
		if got, want := fs.VoltageUnits(), uint16((w>>10)&0x3FF); got != want {
			t.Fatalf("word %#08x voltage units: got %d want %d", w, got, want)
		}
		if got, want := fs.MaxCurrentUnits(), uint16(w&0x3FF); got != want {
			t.Fatalf("word %#08x current units: got %d want %d", w, got, want)
		}
		if uint32(fs.Raw()) != w {
			t.Fatalf("raw mismatch: got %#08x want %#08x", uint32(fs.Raw()), w)
		}
	}
}

func TestFixedSupplyPhysicalUnits(t *testing.T) {
	fs := DecodePDO(0x0C01912C).(FixedSupplyPDO)
	if fs.Voltage() != 5000 || fs.MaxCurrent() != 3000 {
		t.Fatalf("unexpected fixed supply: %d mV %d mA", fs.Voltage(), fs.MaxCurrent())
	}
	if !fs.IsUSBCommunicationsCapable() || !fs.IsUnconstrainedPower() {
		t.Fatalf("expected usb comms and unconstrained flags: %#08x", uint32(fs))
	}
	if fs.IsDualRolePower() {
		t.Fatalf("unexpected dual role flag")
	}
	if got := NewFixedSupplyPDO(9000, 1500); got.Voltage() != 9000 || got.MaxCurrent() != 1500 {
		t.Fatalf("NewFixedSupplyPDO: %s", got)
	}
}

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		word uint32
		typ  PDOType
	}{
		{0x0001912C, PDOTypeFixedSupply},
		{0b01 << 30, PDOTypeBattery},
		{0b10 << 30, PDOTypeVariableSupply},
		{0b11<<30 | 0b00<<28 | 0x00A50C3C, PDOTypePPS},
		{0b11<<30 | 0b01<<28 | 0x0123, PDOTypeEPRAVS},
	}
	for _, tt := range tests {
		obj := DecodePDO(PDO(tt.word))
		if obj.Type() != tt.typ {
			t.Errorf("word %#08x: got %s want %s", tt.word, obj.Type(), tt.typ)
		}
		if PDO(tt.word).Type() != tt.typ {
			t.Errorf("word %#08x: raw type %s want %s", tt.word, PDO(tt.word).Type(), tt.typ)
		}
		if !PDO(tt.word).Valid() {
			t.Errorf("word %#08x reported invalid", tt.word)
		}
	}
}

func TestDecodeAugmentedSupplyTags(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		low := r.Uint32() & (1<<28 - 1)
		if _, ok := DecodePDO(PDO(0b11<<30 | low)).(PPSPDO); !ok {
			t.Fatalf("supply 00 with low bits %#x did not decode to PPSPDO", low)
		}
		if _, ok := DecodePDO(PDO(0b11<<30 | 0b01<<28 | low)).(EPRAVSPDO); !ok {
			t.Fatalf("supply 01 with low bits %#x did not decode to EPRAVSPDO", low)
		}
	}
}

func TestDecodeReservedAugmentedSupplyPanics(t *testing.T) {
	for _, supply := range []uint32{0b10, 0b11} {
		w := PDO(0b11<<30 | supply<<28)
		if w.Valid() {
			t.Fatalf("supply %02b reported valid", supply)
		}
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("supply %02b did not panic", supply)
				}
			}()
			DecodePDO(w)
		}()
	}
}

func TestPPSAccessors(t *testing.T) {
	p := NewPPSPDO()
	p.SetMinVoltage(3300)
	p.SetMaxVoltage(11000)
	p.SetMaxCurrent(3000)
	if p.MinVoltage() != 3300 || p.MaxVoltage() != 11000 || p.MaxCurrent() != 3000 {
		t.Fatalf("unexpected pps: %s", p)
	}
	if p.Type() != PDOTypePPS || PDO(p).Type() != PDOTypePPS {
		t.Fatalf("unexpected type: %s", PDO(p).Type())
	}
	if p.IsPowerLimited() {
		t.Fatalf("unexpected power limited flag")
	}
}

func TestVariableAndBatteryAccessors(t *testing.T) {
	v := VariableSupplyPDO(0b10<<30 | 400<<20 | 100<<10 | 200)
	if v.MinVoltage() != 5000 || v.MaxVoltage() != 20000 || v.MaxCurrent() != 2000 {
		t.Fatalf("unexpected variable supply: %s", v)
	}
	b := BatteryPDO(0b01<<30 | 240<<20 | 100<<10 | 240)
	if b.MinVoltage() != 5000 || b.MaxVoltage() != 12000 || b.MaxPower() != 60000 {
		t.Fatalf("unexpected battery: %s", b)
	}
}
