package consts

const (
	CHARGE    = 1.602176634e-19 // Elementary charge (C)
	BOLTZMANN = 1.380649e-23    // Boltzmann constant (J/K)
	KELVIN    = 273.15          // Kelvin temperature (K)
)
