package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378.137              // semi-major axis (km)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const deg = math.Pi / 180.0

// Geodetic is a WGS-84 geodetic position.
type Geodetic struct {
	LatDeg, LonDeg float64
	AltKm          float64 // height above the ellipsoid
}

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise, [0, 360)
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// GeodeticToECEF converts a geodetic position to ECEF kilometers.
func GeodeticToECEF(g Geodetic) Vector {
	lat := g.LatDeg * deg
	lon := g.LonDeg * deg

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vector{
		X: (n + g.AltKm) * cosLat * math.Cos(lon),
		Y: (n + g.AltKm) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + g.AltKm) * sinLat,
	}
}

// ECEFToGeodetic converts ECEF kilometers to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
func ECEFToGeodetic(v Vector) Geodetic {
	lon := math.Atan2(v.Y, v.X)
	p := math.Hypot(v.X, v.Y)

	lat := math.Atan2(v.Z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(v.Z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(v.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{LatDeg: lat / deg, LonDeg: lon / deg, AltKm: alt}
}

// Topocentric is an observer's local horizon frame. The ECEF position and the
// rotation terms are computed once so they can be reused across many
// satellite lookups.
type Topocentric struct {
	Site   Geodetic
	ECEF   Vector
	sinLat float64
	cosLat float64
	sinLon float64
	cosLon float64
}

// NewTopocentric builds the horizon frame for a geodetic site.
func NewTopocentric(site Geodetic) Topocentric {
	lat := site.LatDeg * deg
	lon := site.LonDeg * deg
	return Topocentric{
		Site:   site,
		ECEF:   GeodeticToECEF(site),
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
		sinLon: math.Sin(lon),
		cosLon: math.Cos(lon),
	}
}

// LookAngles computes azimuth, elevation, and range from the observer to a
// satellite at ECEF position sat (km).
//
// Uses the SEZ (South-East-Zenith) topocentric rotation per Vallado Section 4.4.
// A zero range yields NaN angles; callers treat that as degenerate geometry.
func (o Topocentric) LookAngles(sat Vector) LookAngles {
	r := sat.Sub(o.ECEF)

	south := o.sinLat*o.cosLon*r.X + o.sinLat*o.sinLon*r.Y - o.cosLat*r.Z
	east := -o.sinLon*r.X + o.cosLon*r.Y
	zenith := o.cosLat*o.cosLon*r.X + o.cosLat*o.sinLon*r.Y + o.sinLat*r.Z

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngles{AzimuthDeg: math.NaN(), ElevationDeg: math.NaN()}
	}

	el := math.Asin(math.Max(-1, math.Min(1, zenith/rng)))

	// In SEZ, North = -South direction, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	if az >= 2*math.Pi {
		az = 0
	}

	return LookAngles{
		AzimuthDeg:   az / deg,
		ElevationDeg: el / deg,
		RangeKm:      rng,
	}
}
