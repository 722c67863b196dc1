// Package tcpcdriver defines interfaces shared by USB Type-C port controller
// drivers that implement pdsink.Transceiver.
//
// The I2C interface is derived from TinyGo so that a single driver works on
// microcontrollers as well as on hosts through periph.io.
package tcpcdriver

// I2C defines a minimum interface to I2C hardware with a single Tx method.
// machine.I2C in TinyGo and i2c.Bus in periph.io both satisfy it.
type I2C interface {

	// Tx performs a write and then a read transfer placing the result in r.
	//
	// Passing a nil value for w or r skips the transfer corresponding to write
	// or read, respectively.
	//
	//  i2c.Tx(addr, nil, r)
	// Performs only a read transfer.
	//
	//  i2c.Tx(addr, w, nil)
	// Performs only a write transfer.
	Tx(addr uint16, w, r []byte) error
}
