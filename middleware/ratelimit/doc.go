// Package ratelimit fornece o adapter HTTP (net/http) do admission control.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (classificação, chave, decisão admit/deny) sem net/http
//   - infra: implementações concretas (Redis CAS, store local, breaker, métricas)
//   - config: políticas/rotas a partir de YAML
//   - ratelimit (este pacote): middleware HTTP + extração de identidade + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. OPTIONS e caminhos isentos passam direto, sem consultar o gate
//  2. Extrai a identidade (sujeito autenticado, RemoteAddr, X-Forwarded-For)
//  3. Chama a camada application para obter a decisão
//  4. Se negado, responde 429 com Retry-After e corpo JSON
//  5. Se admitido, define X-RateLimit-Remaining e chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_POLICY_FILE, REDIS_ADDR, STORE_TIMEOUT e TRUST_XFF.
package ratelimit
