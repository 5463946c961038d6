package types

import "strings"

// ApplicationContextUID is the DICOM Application Context Name proposed in every association.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const VerificationSOPClass = "1.2.840.10008.1.1"

// Storage Service SOP Classes, PS3.4 Annex B.5
const (
	ComputedRadiographyImageStorage                   = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation            = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing              = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	CTImageStorage                                    = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                            = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImageStorage                  = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                                    = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                            = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage                            = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage                      = "1.2.840.10008.5.1.4.1.1.7"
	GrayscaleSoftcopyPresentationStateStorage         = "1.2.840.10008.5.1.4.1.1.11.1"
	XRayAngiographicImageStorage                      = "1.2.840.10008.5.1.4.1.1.12.1"
	XRayRadiofluoroscopicImageStorage                 = "1.2.840.10008.5.1.4.1.1.12.2"
	NuclearMedicineImageStorage                       = "1.2.840.10008.5.1.4.1.1.20"
	VLPhotographicImageStorage                        = "1.2.840.10008.5.1.4.1.1.77.1.4"
	BasicTextSRStorage                                = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage                                 = "1.2.840.10008.5.1.4.1.1.88.22"
	EncapsulatedPDFStorage                            = "1.2.840.10008.5.1.4.1.1.104.1"
	PETImageStorage                                   = "1.2.840.10008.5.1.4.1.1.128"
	RTImageStorage                                    = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                                     = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage                             = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                                     = "1.2.840.10008.5.1.4.1.1.481.5"
)

// storageClassPrefix is shared by every Storage SOP Class UID.
const storageClassPrefix = "1.2.840.10008.5.1.4.1.1."

// SOPClass pairs a SOP Class UID with its standard name.
type SOPClass struct {
	Name string
	UID  string
}

// StorageClasses lists the storage SOP classes proposed by the default
// service list, in proposal order.
var StorageClasses = []SOPClass{
	{"CT Image Storage", CTImageStorage},
	{"Enhanced CT Image Storage", EnhancedCTImageStorage},
	{"MR Image Storage", MRImageStorage},
	{"Enhanced MR Image Storage", EnhancedMRImageStorage},
	{"Computed Radiography Image Storage", ComputedRadiographyImageStorage},
	{"Digital X-Ray Image Storage - For Presentation", DigitalXRayImageStorageForPresentation},
	{"Digital X-Ray Image Storage - For Processing", DigitalXRayImageStorageForProcessing},
	{"Digital Mammography X-Ray Image Storage - For Presentation", DigitalMammographyXRayImageStorageForPresentation},
	{"Ultrasound Image Storage", UltrasoundImageStorage},
	{"Ultrasound Multi-frame Image Storage", UltrasoundMultiFrameImageStorage},
	{"Secondary Capture Image Storage", SecondaryCaptureImageStorage},
	{"Grayscale Softcopy Presentation State Storage", GrayscaleSoftcopyPresentationStateStorage},
	{"X-Ray Angiographic Image Storage", XRayAngiographicImageStorage},
	{"X-Ray Radiofluoroscopic Image Storage", XRayRadiofluoroscopicImageStorage},
	{"Nuclear Medicine Image Storage", NuclearMedicineImageStorage},
	{"VL Photographic Image Storage", VLPhotographicImageStorage},
	{"Basic Text SR Storage", BasicTextSRStorage},
	{"Enhanced SR Storage", EnhancedSRStorage},
	{"Encapsulated PDF Storage", EncapsulatedPDFStorage},
	{"PET Image Storage", PETImageStorage},
	{"RT Image Storage", RTImageStorage},
	{"RT Dose Storage", RTDoseStorage},
	{"RT Structure Set Storage", RTStructureSetStorage},
	{"RT Plan Storage", RTPlanStorage},
}

var sopClassNames = func() map[string]string {
	m := make(map[string]string, len(StorageClasses)+1)
	m[VerificationSOPClass] = "Verification SOP Class"
	for _, c := range StorageClasses {
		m[c.UID] = c.Name
	}
	return m
}()

// SOPClassName returns the standard name of a SOP Class UID, or "Unknown".
func SOPClassName(uid string) string {
	if name, ok := sopClassNames[uid]; ok {
		return name
	}
	return "Unknown"
}

// IsStorageSOPClass returns true if the UID belongs to the Storage Service Class.
// Classes missing from StorageClasses are still recognised by their UID root.
func IsStorageSOPClass(uid string) bool {
	if _, ok := sopClassNames[uid]; ok {
		return uid != VerificationSOPClass
	}
	return len(uid) > len(storageClassPrefix) && uid[:len(storageClassPrefix)] == storageClassPrefix
}

// LookupSOPClass resolves a SOP class given by name or UID. Unlisted UIDs
// are accepted as they are.
func LookupSOPClass(nameOrUID string) (string, bool) {
	for _, c := range StorageClasses {
		if c.UID == nameOrUID || strings.EqualFold(c.Name, nameOrUID) {
			return c.UID, true
		}
	}
	if isUID(nameOrUID) {
		return nameOrUID, true
	}
	return "", false
}

func isUID(s string) bool {
	if s == "" || len(s) > 64 || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
