// Package scanner walks a repository and turns its files into indexed
// vector points.
//
// A scan has two independently bounded stages. Files are parsed by up to
// ParsingConcurrency workers, which hand their blocks to a single
// aggregator goroutine. The aggregator is the only owner of the pending
// batch; each time it reaches BatchSize blocks it hands the batch off and
// starts a new one. Handed-off batches are embedded and upserted by
// goroutines holding one of BatchConcurrency semaphore slots, so a slow
// provider never stalls parsing. The final partial batch is processed
// before Scan returns.
//
// A batch that still fails after MaxBatchRetries attempts is reported as an
// EventBatchError and collected in Result.BatchErrors; deciding whether the
// run as a whole failed is left to the caller.
package scanner
