package spectrapro

// this file adapts the monochromator to the interfaces of generichttp/motion

func checkAxis(axis string) error {
	if axis != AxisWavelength {
		return ErrBadAxis
	}
	return nil
}

// GetPos returns the wavelength in nm
func (m *Monochromator) GetPos(axis string) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return m.GetPosition()
}

// MoveAbs drives to a wavelength, blocking until arrival
func (m *Monochromator) MoveAbs(axis string, nm float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return m.SetPosition(nm)
}

// MoveRel drives by delta nm from the current wavelength
func (m *Monochromator) MoveRel(axis string, delta float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	pos, err := m.GetPosition()
	if err != nil {
		return err
	}
	return m.SetPosition(pos + delta)
}

// Home drives to zero order, 0 nm
func (m *Monochromator) Home(axis string) error {
	return m.MoveAbs(axis, 0)
}

// Stop halts a scan.  A blocking GOTO cannot be interrupted; it holds the
// connection until it completes.
func (m *Monochromator) Stop(axis string) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return m.Halt()
}

// GetInPosition returns true when no scan is in progress
func (m *Monochromator) GetInPosition(axis string) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	return m.Done()
}

// GetVelocity returns the scan speed in nm/min
func (m *Monochromator) GetVelocity(axis string) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return m.GetScanSpeed()
}

// SetVelocity sets the scan speed in nm/min
func (m *Monochromator) SetVelocity(axis string, nmPerMin float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return m.SetScanSpeed(nmPerMin)
}
