package profiles

import "seehuhn.de/go/icc"

// TestProfile encodes a tag-less ICC profile header for the given data color
// space. It decodes like a real profile but carries no transform.
func TestProfile(cs icc.ColorSpace) []byte {
	class := icc.OutputDeviceProfile
	if cs == icc.RGBSpace {
		class = icc.DisplayDeviceProfile
	}
	p := &icc.Profile{
		Version:    icc.Version2_1_0,
		Class:      class,
		ColorSpace: cs,
		PCS:        icc.PCSXYZSpace,
		TagData:    map[icc.TagType][]byte{},
	}
	return p.Encode()
}
