package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	vectorsTransformed atomic.Int64
	vectorsAssembled   atomic.Int64
	emptySlots         atomic.Int64
	transformErrors    atomic.Int64
	assemblyErrors     atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	eventsConsumed     atomic.Int64
)

// ObserveVector records one produced vector. assembled is false for
// vectors transformed from caller-supplied inputs.
func ObserveVector(assembled bool, vector []interface{}) {
	if assembled {
		vectorsAssembled.Add(1)
	} else {
		vectorsTransformed.Add(1)
	}
	var empty int64
	for _, v := range vector {
		if v == nil {
			empty++
		}
	}
	emptySlots.Add(empty)
}

func ObserveTransformError() { transformErrors.Add(1) }

func ObserveAssemblyError() { assemblyErrors.Add(1) }

func ObserveCache(hit bool) {
	if hit {
		cacheHits.Add(1)
		return
	}
	cacheMisses.Add(1)
}

func ObserveEvent() { eventsConsumed.Add(1) }

type counter struct {
	name, help string
	value      *atomic.Int64
}

var counters = []counter{
	{"mocab_vectors_transformed_total", "Vectors built from inputs supplied by the caller.", &vectorsTransformed},
	{"mocab_vectors_assembled_total", "Vectors built from FHIR searches.", &vectorsAssembled},
	{"mocab_vector_empty_slots_total", "Vector slots left empty because no rule produced a value.", &emptySlots},
	{"mocab_transform_errors_total", "Transformations rejected for unknown models or malformed inputs.", &transformErrors},
	{"mocab_assembly_errors_total", "Feature assemblies that failed on a FHIR search.", &assemblyErrors},
	{"mocab_vector_cache_hits_total", "Assembled vectors served from the cache.", &cacheHits},
	{"mocab_vector_cache_misses_total", "Assembled vectors not found in the cache.", &cacheMisses},
	{"mocab_assembly_events_total", "Assembly requests consumed from kafka.", &eventsConsumed},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value.Load())
	}
}
