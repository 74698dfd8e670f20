// Package domain define contratos e tipos de domínio para admission control.
//
// Aqui ficam as políticas (tiers de token bucket), o estado persistido por chave,
// o algoritmo de refill/consumo e os contratos dos stores.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
