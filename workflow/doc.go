/*
Package workflow defines the pipeline and workflow instance types.

# Pipelines

A pipeline is a fixed, ordered catalogue of steps. Each step names a
quantity (the kind of output it produces) and a method (the procedure
that produces it). Index order in the catalogue is the default successor
relation between steps.

A handful of steps carry roles that the engine's branch rules act upon:
the fan-out step is submitted once per physical sample in a batch, the
terminal step produces the per-sample results that are aggregated into
the final result, and the repeated step appears twice in the catalogue
and has its first occurrence renamed when the second one is requested.

Pipelines are loaded from YAML. The document also carries the fixup
rules applied to outgoing requests, the static default value table and
the tenant capabilities. An embedded pipeline is available via
DefaultPipeline.

# Instances

A workflow instance is the accumulated state of one execution of the
pipeline. It is anchored by the root request that started it and holds
one record per requested step in insertion order. A record is either a
single request/result pair or, for fan-out and terminal steps, a set of
samples keyed by their submitted request IDs.

A result is only ever stored against a request ID already recorded in
the instance.
*/
package workflow
