package stepauth

import "time"

// nowFunc is the engine clock, swappable in tests.
var nowFunc = time.Now
