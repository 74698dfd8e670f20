// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStateStore: valor opaco por chave com CAS via script Lua
//   - DistributedBucketStore: token bucket multi-tier sobre um StateStore compartilhado
//   - LocalFallbackStore: mesmo algoritmo em memória, para modo degradado
//   - CircuitBreaker, Metrics (Prometheus) e stores de estatísticas
package infra
