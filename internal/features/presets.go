package features

// OrganizationPins maps organization rows to pins. Contact and internal
// fields stay out of the rendered layer.
var OrganizationPins = FieldMap{
	Kind:       KindPoint,
	IDField:    "id",
	LatField:   "gpsLat",
	LonField:   "gpsLon",
	Properties: []string{"name", "website", "country", "description", "logoUrl"},
}

// ProjectPolygons maps stored land polygons to polygon features.
var ProjectPolygons = FieldMap{
	Kind:          KindPolygon,
	IDField:       "id",
	GeometryField: "geometry",
	Properties:    []string{"name", "projectId", "landId", "status", "area"},
}

// PolygonCentroids maps stored land polygons to one pin per polygon.
var PolygonCentroids = FieldMap{
	Kind:          KindCentroid,
	IDField:       "id",
	GeometryField: "geometry",
	Properties:    []string{"name", "projectId", "landId", "status", "area"},
}
