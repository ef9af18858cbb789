package models

import (
	"github.com/suyashkumar/dicom"

	"ikh/dicom-share-loader/internal/blob"
)

// LoadUnit is one fetchable instance. InstanceNumber is only an ordering key;
// it is +Inf when the listing carried none.
type LoadUnit struct {
	StudyUID       string
	SeriesUID      string
	SOPUID         string
	InstanceNumber float64
}

// Key identifies the unit within a load session.
func (u LoadUnit) Key() string {
	return u.StudyUID + "/" + u.SeriesUID + "/" + u.SOPUID
}

// SeriesWorklist is the ordered set of units of one series. Units[0] is the
// head unit.
type SeriesWorklist struct {
	StudyUID  string
	SeriesUID string
	Units     []LoadUnit
}

// Head returns the first unit to load, or false when the worklist is empty.
func (w SeriesWorklist) Head() (LoadUnit, bool) {
	if len(w.Units) == 0 {
		return LoadUnit{}, false
	}
	return w.Units[0], true
}

// Tail returns every unit after the head.
func (w SeriesWorklist) Tail() []LoadUnit {
	if len(w.Units) < 2 {
		return nil
	}
	return w.Units[1:]
}

// DecodedInstance is a parsed instance ready to hand to the viewer.
type DecodedInstance struct {
	StudyUID  string
	SeriesUID string
	SOPUID    string
	Dataset   *dicom.Dataset
	// PixelData is nil when the part carried no (7FE0,0010) element.
	PixelData *dicom.Element
	Blob      blob.Ref
}
