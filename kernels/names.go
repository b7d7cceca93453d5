// Package kernels holds the kernel programs the engines run: Go reference
// implementations for the software device, loaders for program text, and
// the uniform names shared by the host and the GLSL ports.
package kernels

// Kernel stages. Each variant provides a program per stage it uses.
const (
	StagePosition = "position"
	StageColor    = "color"
	StageVelocity = "velocity"
)

// Variant keys.
const (
	VariantOrbit    = "orbit"
	VariantTerrain  = "terrain"
	VariantManifold = "manifold"
	VariantPhysics  = "physics"
)

// MaxForces is the number of force descriptor slots a kernel accepts.
const MaxForces = 10

// Uniform names.
const (
	UTime               = "time"
	UDeltaTime          = "deltaTime"
	UResolution         = "resolution"
	UParticleSize       = "particleSize"
	UNoiseScale         = "noiseScale"
	UNoiseStrength      = "noiseStrength"
	UBaseRadius         = "baseRadius"
	UTerrainScale       = "terrainScale"
	UManifoldScale      = "manifoldScale"
	UManifoldComplexity = "manifoldComplexity"

	UGravity          = "gravity"
	USpringStiffness  = "springStiffness"
	USpringDamping    = "springDamping"
	URestoreStiffness = "restoreStiffness"
	URestoreDamping   = "restoreDamping"
	UGroundY          = "groundY"

	UForceCenter   = "forceCenter"
	UForceStrength = "forceStrength"
	UForceRadius   = "forceRadius"

	UForceCount               = "forceCount"
	UForceCenters             = "forceCenters"
	UForceStrengths           = "forceStrengths"
	UForceRadii               = "forceRadii"
	UForceReturnProbabilities = "forceReturnProbabilities"
)

// Name returns the registered name of a variant's stage program.
func Name(variant, stage string) string {
	return variant + "/" + stage
}
