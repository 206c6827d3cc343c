package domain

// FeatureVector is the fixed-order numeric encoding of a listing.
// Index semantics are shared by the trainer and the prediction path.
type FeatureVector []float64

// Feature indices.
const (
	FeaturePrice = iota
	FeatureBedrooms
	FeatureBathrooms
	FeatureFloorArea
	FeatureLocationTier
	FeatureAmenityCount
	FeatureHasParking
	FeatureHasSecurity
	FeatureHasPool
	FeaturePricePerArea
	FeaturePropertyAge
	FeatureVerified
	FeatureOwnerTrust
	FeatureOwnerID

	// FeatureCount is the length of every FeatureVector.
	FeatureCount
)

// FeatureNames lists feature names in index order.
var FeatureNames = [FeatureCount]string{
	"price",
	"bedrooms",
	"bathrooms",
	"floorArea",
	"locationTier",
	"amenityCount",
	"hasParking",
	"hasSecurity",
	"hasPool",
	"pricePerArea",
	"propertyAge",
	"verified",
	"ownerTrust",
	"ownerId",
}
